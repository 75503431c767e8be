// Package cognito adapts an Amazon Cognito user pool app client to
// sessionauth.IdentityProvider.
//
// Login uses the USER_PASSWORD_AUTH flow and answers SMS_MFA and EMAIL_OTP
// challenges. Tokens are cached in a session.Backend so a restarted host
// resumes its session, and are refreshed with REFRESH_TOKEN_AUTH when the
// access token expires. Cognito has no resend operation for sign-in codes,
// so ResendChallenge starts the flow again with the credentials retained
// while the challenge is pending.
package cognito
