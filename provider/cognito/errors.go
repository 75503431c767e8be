package cognito

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/reviewpulse/sessionauth"
)

// mapError translates Cognito exceptions into sessionauth sentinels. Unknown
// errors are returned as they are and classified by the engine.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var (
		notAuthorized *types.NotAuthorizedException
		notFound      *types.UserNotFoundException
		notConfirmed  *types.UserNotConfirmedException
		resetRequired *types.PasswordResetRequiredException
		mismatch      *types.CodeMismatchException
		expired       *types.ExpiredCodeException
	)
	switch {
	case errors.As(err, &notAuthorized):
		if strings.Contains(strings.ToLower(notAuthorized.ErrorMessage()), "disabled") {
			return fmt.Errorf("%w: %v", sessionauth.ErrAccountDisabled, err)
		}
		return fmt.Errorf("%w: %v", sessionauth.ErrInvalidCredentials, err)
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %v", sessionauth.ErrInvalidCredentials, err)
	case errors.As(err, &notConfirmed):
		return fmt.Errorf("%w: %v", sessionauth.ErrAccountUnconfirmed, err)
	case errors.As(err, &resetRequired):
		return fmt.Errorf("%w: %v", sessionauth.ErrInvalidCredentials, err)
	case errors.As(err, &mismatch), errors.As(err, &expired):
		return fmt.Errorf("%w: %v", sessionauth.ErrInvalidOrExpiredCode, err)
	default:
		return err
	}
}

// mapChallengeError is mapError for challenge calls, where an expired
// challenge session surfaces as NotAuthorizedException.
func mapChallengeError(err error) error {
	err = mapError(err)
	if errors.Is(err, sessionauth.ErrInvalidCredentials) {
		return fmt.Errorf("%w: %v", sessionauth.ErrInvalidOrExpiredCode, err)
	}
	return err
}
