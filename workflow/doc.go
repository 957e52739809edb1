// Package workflow sequences a relay run as a small state machine.
//
// A Graph holds named nodes joined by unconditional and conditional edges;
// an Executor drives a State through it one node at a time, merging each
// node's Update with append-only and latest-wins reducers. The Coordinator
// compiles the relay graph itself:
//
//	router --token--> agent_i --> router --done--> summarizer --> End
//
// The router step also hosts the circuit breakers: a hop cap, the textual
// LoopDetector and completion markers all force the summarizer instead of
// raising errors. Seeder renders external events into an initial user turn
// and pre-selects an agent through a Classifier.
package workflow
