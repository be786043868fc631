// Package circuit implements a circuit breaker per endpoint class.
//
// Breaker state is a JSON Record stored under circuit:{class} in a
// sharedstate.Store, so all server processes agree on it. Every mutation is
// an atomic read-modify-write of that key. Records expire after the class's
// monitoring window without activity, which closes the circuit.
//
// State machine:
//
//	closed    --FailureThreshold failures within MonitoringWindow--> open
//	open      --RecoveryTimeout elapsed, checked by Allow-----------> half_open
//	half_open --SuccessThreshold consecutive successes------------> closed
//	half_open --any failure---------------------------------------> open
//
// Store failures never block traffic: Allow admits and returns the error.
package circuit
