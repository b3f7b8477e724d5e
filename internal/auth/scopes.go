package auth

// OAuth2 scopes requested from the issuer.
const (
	ScopeOpenID         = "openid"
	ScopeEmail          = "email"
	ScopeApprovalsRead  = "approvals:read"
	ScopeApprovalsWrite = "approvals:write"
)

// LoginScopes are requested by the browser login flow, which only needs the
// caller's email.
var LoginScopes = []string{ScopeOpenID, ScopeEmail}

// APIScopes are requested by API clients such as the Swagger UI. They match
// the okta security requirement of the OpenAPI document.
var APIScopes = []string{ScopeOpenID, ScopeEmail, ScopeApprovalsRead, ScopeApprovalsWrite}
