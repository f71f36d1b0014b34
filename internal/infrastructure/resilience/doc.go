/*
Package resilience provides the circuit breaker in front of the remote
credential store.

A session spawn asks the store for an API key. When the store is down every
spawn would otherwise wait out the client timeout and its retries; the
breaker fails those lookups fast until a probe succeeds again.

# Usage

	breaker := resilience.New("credentials", resilience.Settings{
		Threshold: 3,
		Cooldown:  30 * time.Second,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, credentials.ErrNoCredential)
		},
	})

	err := breaker.Do(func() error {
		key, err = store.APIKey(ctx, "anthropic")
		return err
	})

# States

	Closed --[Threshold failures]-> Open --[Cooldown]-> Half-Open --[probe ok]-> Closed
	                                  ^                     |
	                                  +----[probe failed]---+
*/
package resilience
