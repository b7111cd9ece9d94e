package session

import "github.com/xcp-tools/xcpslave/pkg/xcperr"

// seedPhase is the GET_SEED/UNLOCK state machine of component K,
// modelled after the teacher's LSSState idiom in pkg/lss/slave.go:
// a small enum plus one struct field per piece of in-flight data,
// reset to idle on any protocol violation rather than left dangling.
type seedPhase uint8

const (
	seedIdle seedPhase = iota
	seedInProgress
	unlockInProgress
)

// seedKeyState is the per-session progress of one GET_SEED/UNLOCK
// exchange. Only one resource can be mid-challenge at a time; asking
// for a different resource's seed while one is outstanding aborts the
// first (the application's GetSeed is simply called again with
// first=true).
type seedKeyState struct {
	phase    seedPhase
	resource uint8
}

// GetSeed drives one GET_SEED request. first indicates the tool's
// mode-0 ("start a new seed") byte; a non-first call is rejected with
// ERR_SEQUENCE unless a seed for the same resource is already
// in progress.
func (s *Session) GetSeed(resource uint8, first bool, out []byte) (int, error) {
	if !first {
		if s.seedKey.phase == seedIdle || s.seedKey.resource != resource {
			return 0, xcperr.ErrSequence
		}
	}
	n, err := s.App.GetSeed(resource, first, out)
	if err != nil {
		s.seedKey = seedKeyState{}
		return 0, err
	}
	s.seedKey.resource = resource
	if n == 0 {
		s.seedKey.phase = seedIdle
	} else {
		s.seedKey.phase = seedInProgress
	}
	return n, nil
}

// Unlock drives one UNLOCK request for the resource whose seed is
// currently outstanding. A key chunk sent without a preceding GET_SEED
// is ERR_SEQUENCE. On the final chunk the application reports the
// resulting protection mask and the state machine returns to idle
// regardless of outcome — a failed unlock must not leave the resource
// half-authenticated.
func (s *Session) Unlock(key []byte) (done bool, protectionMask uint8, err error) {
	if s.seedKey.phase == seedIdle {
		return false, 0, xcperr.ErrSequence
	}
	s.seedKey.phase = unlockInProgress
	done, mask, status, err := s.App.Unlock(s.seedKey.resource, key)
	if err != nil {
		s.seedKey = seedKeyState{}
		return false, 0, err
	}
	if status != Finished {
		s.seedKey = seedKeyState{}
		return false, 0, xcperr.ErrAccessDenied
	}
	if done {
		s.protectionMask = mask
		s.seedKey = seedKeyState{}
	}
	return done, mask, nil
}
