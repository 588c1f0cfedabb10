// Package profileauth is the identity and access core of a profile-hosting
// service. It authenticates users by password or by OAuth2 provider, links
// external identities to local accounts, keeps server-side sessions, and
// runs the password recovery lifecycle.
//
// # Components
//
// CredentialStore registers users and verifies passwords (argon2id, see
// package password). SessionManager wraps an scs session: Login renews the
// token and commits the user id, CurrentUser resolves a request to a user,
// Logout destroys the session, and BeginOAuth/TakeState hold one pending
// OAuth attempt per provider. AccountResolver maps a normalized
// ExternalIdentity onto a local user, creating shadow accounts as needed.
// PasswordResets issues single-use reset tokens and consumes them together
// with the password change.
//
// When SessionConfig.APITokenSecret is set, login also returns a short-lived
// bearer token bound to the session. POST /api/token (HandleToken) renews it
// and destroying the session revokes every token bound to it.
//
// The OAuth authorization-code flow itself lives in package oauth2, storage
// backends under stores/, and the HTTP wiring in package server.
//
// # Basic Usage
//
//	store, _ := fs.New("/var/lib/profileauth")
//	hasher := password.Default()
//	sessions := profileauth.NewSessionManager(nil, store, profileauth.SessionConfig{Secure: true})
//	local := &profileauth.LocalAuth{
//	    Credentials: profileauth.NewCredentialStore(store, hasher, profileauth.Policy{}),
//	    Sessions:    sessions,
//	}
//	r := mux.NewRouter()
//	r.HandleFunc("/api/register", local.HandleRegister).Methods("POST")
//	r.HandleFunc("/api/login", local.HandleLogin).Methods("POST")
//	http.ListenAndServe(":8080", sessions.Sessions.LoadAndSave(r))
//
// # Error Handling
//
// Operations return the sentinel errors declared in errors.go, or an
// *AuthError for validation failures. ErrorFor converts either into the
// status code and JSON body sent to clients:
//
//	{"error": "Username is already taken", "code": "username_taken", "field": "username"}
package profileauth
