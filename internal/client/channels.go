package client

import (
	"context"
	"fmt"
	"time"

	"placecraft/internal/protocol"
)

// RequiredChannels is the set a manipulation client cannot operate without.
func RequiredChannels() []string { return protocol.ChannelNames() }

// MissingChannels reports which required names the WELCOME advertisement
// lacks.
func MissingChannels(advertised, required []string) []string {
	have := make(map[string]struct{}, len(advertised))
	for _, c := range advertised {
		have[c] = struct{}{}
	}
	var missing []string
	for _, c := range required {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// AcquireChannels dials until a session advertises every required channel or
// the deadline passes. A server that never provisions the full set yields an
// E_CHANNEL_UNAVAILABLE error; a partially provisioned session is closed and
// retried rather than used.
func AcquireChannels(ctx context.Context, url string, opts DialOptions, required []string, deadline time.Duration) (*Session, error) {
	if len(required) == 0 {
		required = RequiredChannels()
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	backoff := 200 * time.Millisecond
	var lastMissing []string

	for {
		s, err := Dial(ctx, url, opts)
		if err == nil {
			missing := MissingChannels(s.Welcome().Channels, required)
			if len(missing) == 0 {
				return s, nil
			}
			lastMissing = missing
			_ = s.Close()
		}

		select {
		case <-ctx.Done():
			if len(lastMissing) > 0 {
				return nil, fmt.Errorf("%s: missing channels %v", protocol.ErrChannelUnavailable, lastMissing)
			}
			return nil, fmt.Errorf("%s: %v", protocol.ErrChannelUnavailable, err)
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}
