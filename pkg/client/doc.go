// Package client is the Go SDK for the Decentralised Creative Network API.
//
// It authenticates with a wallet signature once and then calls the remote
// operations (version, account info, feature and transformation get/create,
// execute) without the caller re-implementing token refresh or
// endpoint-binding logic.
//
// # Logging in with a wallet
//
//	acct, err := identity.FromEnv() // DCN_PRIVATE_KEY or an ephemeral key
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c, _ := client.New("") // DCN_API_BASE or the production default
//	if _, err := c.Login(ctx, acct); err != nil {
//	    log.Fatal(err)
//	}
//
// Login fetches a nonce for the account address, signs the fixed message
// "Login nonce: <nonce>", and commits the returned access/refresh pair.
// Subsequent calls use the authenticated handle; a 401 triggers exactly one
// refresh-and-retry when a refresh token is present.
//
// # Calling operations
//
//	v, err := c.Version(ctx)
//	feat, err := c.GetFeature(ctx, "pitch")
//	out, err := c.Execute(ctx, "pitch", 16, []client.RunningInstance{{Start: 0, Shift: 2}})
//
// Each operation is bound through an ordered candidate list so the SDK works
// against both tag-grouped and default-grouped backend layouts.
//
// # Resuming a session
//
//	c, _ := client.New("", client.WithTokens(access, refresh))
//
// Tokens live only in process memory; a restart loses them.
package client
