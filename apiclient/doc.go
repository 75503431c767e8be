// Package apiclient calls the protected product API on behalf of the
// signed-in user.
//
// [Transport] attaches the current bearer token to every request and hands
// a 401 response to the engine, which ends the session locally and sends
// the user to the login screen. [Client] adds JSON helpers on top.
package apiclient
