/*
Package resilience provides a circuit breaker for operations that fail repeatedly.

# Overview

The terminal adapter spawns every shell through a breaker. When the shell binary is
missing or the OS refuses to create processes, consecutive failures open the breaker
and further spawns fail immediately until the cooldown elapses.

# Usage

	breaker := resilience.New("pty-spawn", resilience.Settings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	err := breaker.Execute(func() error {
		return startProcess()
	})

# States

	Closed --[threshold failures]-> Open --[cooldown]-> Half-Open --[success]-> Closed
	                                                        |
	                                                    [failure]
	                                                        v
	                                                      Open
*/
package resilience
