// Package unifiedauth orchestrates the authentication flow of one client
// instance.
//
// Login gate-checks the lockout tracker before the identity server is
// contacted, picks a strategy with auth.Selector, exchanges credentials
// through a Transport and installs the resulting session in a
// session.Store. Wrong credentials count toward lockout; transport failures
// do not.
//
// Every login and logout bumps a generation counter. A login whose
// generation is no longer current when its exchange returns is discarded,
// its token revoked, and auth.ErrLoginSuperseded returned, so a logout
// issued mid-login always wins.
//
// Sessions on a refresh-capable strategy are renewed shortly before expiry.
// Concurrent refreshes share one round trip, and a refreshed session must
// outlive the one it replaces.
package unifiedauth
