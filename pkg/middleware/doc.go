// Package middleware provides HTTP middleware for authentication, request
// tracing and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: bearer token authentication
//
//	auth := middleware.NewAuthMiddleware(service, false, logger)
//	router.Use(auth.Handler)
//	// Resolves the token through a PrincipalResolver and stores the
//	// *auth.Principal in the request context. Browsers on the cookie
//	// strategy send the token in the authd_session cookie instead.
//
// RequestID: assigns or propagates X-Request-ID and attaches a request
// scoped logger
//
//	router.Use(middleware.RequestID(logger))
//
// RateLimitMiddleware: token bucket per principal, or per client IP for
// anonymous callers
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	limiter.StartCleanup(ctx)
//	loginRoutes.Use(middleware.NewRateLimitMiddleware(limiter).Handler)
//
// Permission checks live in rbac.PermissionMiddleware.
package middleware
