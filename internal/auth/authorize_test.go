package auth

import "testing"

func TestAuthorize(t *testing.T) {
	patient := MustResource("Patient")
	granted := &Payload{Subject: "u1", Permissions: []string{"Patient-GET", "Patient-POST"}, HasPermissions: true}
	noClaim := &Payload{Subject: "u1"}
	member := &Identity{UserID: "u1", IsActive: true}
	super := &Identity{UserID: "u1", IsActive: true, IsSuperuser: true}
	inactiveSuper := &Identity{UserID: "u1", IsSuperuser: true}

	cases := []struct {
		name    string
		req     Request
		allowed bool
		reason  Reason
	}{
		{"anonymous", Request{Resource: patient, Method: "GET"}, false, ReasonNotAuthenticated},
		{"payload without identity", Request{Payload: granted, Resource: patient, Method: "GET"}, false, ReasonNotAuthenticated},
		{"granted", Request{Payload: granted, Identity: member, Resource: patient, Method: "GET"}, true, ReasonGranted},
		{"not granted", Request{Payload: granted, Identity: member, Resource: patient, Method: "DELETE"}, false, ReasonNotGranted},
		{"method case", Request{Payload: granted, Identity: member, Resource: patient, Method: "get"}, false, ReasonNotGranted},
		{"resource case", Request{Payload: granted, Identity: member, Resource: MustResource("patient"), Method: "GET"}, false, ReasonNotGranted},
		{"undeclared resource", Request{Payload: granted, Identity: member, Method: "GET"}, false, ReasonMissingResource},
		{"missing permissions claim", Request{Payload: noClaim, Identity: member, Resource: patient, Method: "GET"}, false, ReasonMalformedPayload},
		{"superuser without claim", Request{Payload: noClaim, Identity: super, Method: "DELETE"}, true, ReasonSuperuser},
		{"inactive superuser", Request{Payload: noClaim, Identity: inactiveSuper, Resource: patient, Method: "GET"}, false, ReasonMalformedPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Authorize(tc.req)
			if d.Allowed != tc.allowed || d.Reason != tc.reason {
				t.Fatalf("Authorize()=%+v, want allowed=%v reason=%s", d, tc.allowed, tc.reason)
			}
		})
	}
}

func TestAuthorizeReportsRequiredPermission(t *testing.T) {
	d := Authorize(Request{
		Payload:  &Payload{Subject: "u1", HasPermissions: true, Permissions: []string{}},
		Identity: &Identity{UserID: "u1", IsActive: true},
		Resource: MustResource("Patient"),
		Method:   "PATCH",
	})
	if d.Required != "Patient-PATCH" {
		t.Fatalf("required=%q", d.Required)
	}
}

func TestAuthorizeObjectAlwaysDenies(t *testing.T) {
	req := Request{
		Payload:  &Payload{Subject: "u1", HasPermissions: true},
		Identity: &Identity{UserID: "u1", IsActive: true, IsSuperuser: true},
		Resource: MustResource("Patient"),
		Method:   "GET",
	}
	d := AuthorizeObject(req, struct{}{})
	if d.Allowed || d.Reason != ReasonNoObjectRule {
		t.Fatalf("AuthorizeObject()=%+v", d)
	}
}

func TestDecisionErr(t *testing.T) {
	cases := []struct {
		d    Decision
		want error
	}{
		{allow(ReasonGranted, "Patient-GET"), nil},
		{deny(ReasonNotAuthenticated, ""), ErrNotAuthenticated},
		{deny(ReasonMissingResource, ""), ErrMissingResourceDeclaration},
		{deny(ReasonMalformedPayload, ""), ErrMalformedPayload},
		{deny(ReasonNotGranted, "Patient-GET"), ErrPermissionDenied},
		{deny(ReasonNoObjectRule, ""), ErrPermissionDenied},
	}
	for _, tc := range cases {
		if got := tc.d.Err(); got != tc.want {
			t.Fatalf("%s: Err()=%v, want %v", tc.d.Reason, got, tc.want)
		}
	}
}
