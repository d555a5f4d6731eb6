/*
Package resilience provides a circuit breaker for capability providers.

Each browser view owns a Breaker. Provider faults (a crashed sandbox, an
interrupted evaluation) count as failures; once the breaker opens, calls
fail fast and scripts see the capability as unavailable until the
timeout elapses and a probe call succeeds.

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure] -> Open
*/
package resilience
