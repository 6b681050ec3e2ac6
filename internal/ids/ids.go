package ids

import "github.com/oklog/ulid/v2"

// New returns a ULID string. IDs minted by one process sort in creation
// order, which the stores use to order grants.
func New() string {
	return ulid.Make().String()
}
