package sessionauth

import "fmt"

// State is the session state machine's current position. Exactly one state
// is active at a time. The set of implementations is closed.
type State interface {
	isState()
	String() string
}

// Anonymous means no user is signed in.
type Anonymous struct{}

// Hydrating means the engine is reconciling with the identity provider at
// start-up. No route decision is made while hydrating.
type Hydrating struct{}

// Authenticating means a login attempt is in flight.
type Authenticating struct{}

// ChallengePending means the provider accepted the password and sent a
// one-time code.
type ChallengePending struct {
	Email  string
	Medium DeliveryMedium
}

// Authenticated carries the signed-in identity.
type Authenticated struct {
	Identity Identity
}

// ChallengeFailed means the last submitted code was rejected. The login
// attempt is still valid and the user may enter another code.
type ChallengeFailed struct {
	Email  string
	Medium DeliveryMedium
	Reason error
}

func (Anonymous) isState()        {}
func (Hydrating) isState()        {}
func (Authenticating) isState()   {}
func (ChallengePending) isState() {}
func (Authenticated) isState()    {}
func (ChallengeFailed) isState()  {}

func (Anonymous) String() string      { return "anonymous" }
func (Hydrating) String() string      { return "hydrating" }
func (Authenticating) String() string { return "authenticating" }
func (s ChallengePending) String() string {
	return fmt.Sprintf("challenge_pending(%s)", s.Medium)
}
func (s Authenticated) String() string {
	return fmt.Sprintf("authenticated(%s)", s.Identity)
}
func (s ChallengeFailed) String() string {
	return fmt.Sprintf("challenge_failed(%v)", s.Reason)
}

// Event drives a state transition.
type Event interface {
	isEvent()
}

type (
	// HydratedLive reports that start-up found a live provider session.
	HydratedLive struct{ Identity Identity }
	// HydratedNone reports that start-up found no usable session.
	HydratedNone struct{}
	// LoginStarted begins a credential submission.
	LoginStarted struct{}
	// LoginSucceeded completes a login without a challenge.
	LoginSucceeded struct{ Identity Identity }
	// ChallengeIssued reports that the provider sent a one-time code.
	ChallengeIssued struct {
		Email  string
		Medium DeliveryMedium
	}
	// LoginRejected ends a login attempt with an error.
	LoginRejected struct{ Err error }
	// ChallengeVerified completes a login after a correct code.
	ChallengeVerified struct{ Identity Identity }
	// ChallengeRejected reports a wrong or expired code.
	ChallengeRejected struct{ Reason error }
	// ChallengeResent reports that a new code was requested.
	ChallengeResent struct{}
	// ChallengeAbandoned reports that the user left the challenge screen.
	ChallengeAbandoned struct{}
	// LoggedOut is an explicit sign-out.
	LoggedOut struct{}
	// SessionRevoked is raised when the protected API answers 401.
	SessionRevoked struct{}
)

func (HydratedLive) isEvent()       {}
func (HydratedNone) isEvent()       {}
func (LoginStarted) isEvent()       {}
func (LoginSucceeded) isEvent()     {}
func (ChallengeIssued) isEvent()    {}
func (LoginRejected) isEvent()      {}
func (ChallengeVerified) isEvent()  {}
func (ChallengeRejected) isEvent()  {}
func (ChallengeResent) isEvent()    {}
func (ChallengeAbandoned) isEvent() {}
func (LoggedOut) isEvent()          {}
func (SessionRevoked) isEvent()     {}

// Transition returns the state that follows s on ev. It is total: a pair
// with no defined effect returns s unchanged. A nil state is treated as
// Anonymous.
//
// Sign-out and revocation during Hydrating go straight to Anonymous, and a
// late hydration result is then ignored.
func Transition(s State, ev Event) State {
	if s == nil {
		s = Anonymous{}
	}

	switch cur := s.(type) {
	case Hydrating:
		switch e := ev.(type) {
		case HydratedLive:
			return Authenticated{Identity: e.Identity}
		case HydratedNone, LoggedOut, SessionRevoked:
			return Anonymous{}
		}
		return s

	case Anonymous:
		switch ev.(type) {
		case LoginStarted:
			return Authenticating{}
		}
		return s

	case Authenticating:
		switch e := ev.(type) {
		case LoginSucceeded:
			return Authenticated{Identity: e.Identity}
		case ChallengeIssued:
			return ChallengePending{Email: e.Email, Medium: e.Medium}
		case LoginRejected, LoggedOut, SessionRevoked:
			return Anonymous{}
		}
		return s

	case ChallengePending:
		switch e := ev.(type) {
		case ChallengeVerified:
			return Authenticated{Identity: e.Identity}
		case ChallengeRejected:
			return ChallengeFailed{Email: cur.Email, Medium: cur.Medium, Reason: e.Reason}
		case LoginStarted:
			return Authenticating{}
		case LoginRejected, ChallengeAbandoned, LoggedOut, SessionRevoked:
			return Anonymous{}
		}
		return s

	case ChallengeFailed:
		switch e := ev.(type) {
		case ChallengeVerified:
			return Authenticated{Identity: e.Identity}
		case ChallengeRejected:
			return ChallengeFailed{Email: cur.Email, Medium: cur.Medium, Reason: e.Reason}
		case ChallengeResent:
			return ChallengePending{Email: cur.Email, Medium: cur.Medium}
		case LoginStarted:
			return Authenticating{}
		case LoginRejected, ChallengeAbandoned, LoggedOut, SessionRevoked:
			return Anonymous{}
		}
		return s

	case Authenticated:
		switch ev.(type) {
		case LoginStarted:
			return Authenticating{}
		case LoggedOut, SessionRevoked:
			return Anonymous{}
		}
		return s
	}

	return s
}

func challengeEmail(s State) (string, bool) {
	switch cur := s.(type) {
	case ChallengePending:
		return cur.Email, true
	case ChallengeFailed:
		return cur.Email, true
	}
	return "", false
}
