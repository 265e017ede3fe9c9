// Package auth holds the identity vocabulary shared by every authd component:
// principals, roles, credentials, client context and the authentication
// strategy selector.
//
// # Principals
//
// A Principal is an immutable snapshot of the authenticated user. It is built
// from the identity server's response at login and replaced wholesale on the
// next login; nothing in authd edits one in place.
//
//	p := &auth.Principal{
//		ID:                "asisten-9",
//		Role:              auth.RoleAsisten,
//		AssignedDivisions: []string{"div-1"},
//	}
//
// # Strategy Selection
//
// The Selector maps a ClientContext to a Strategy:
//
//	Condition                    Platform  Method  Offline  Refresh
//	mobile user agent or hint    MOBILE    JWT     yes      yes
//	web, stored preference JWT   WEB       JWT     no       yes
//	web, default                 WEB       COOKIE  no       no
//
// An explicit platform hint (X-Platform header) wins over user-agent sniffing:
//
//	client := auth.ClientContextFromRequest(r)
//	strategy := auth.NewSelector().Select(client)
//
// # Errors
//
// ErrInvalidCredentials counts toward lockout. TransportError does not, so
// callers can tell "wrong password" from "server unreachable". LockedOutError
// carries the remaining lockout duration.
package auth
