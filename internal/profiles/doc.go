// Package profiles holds the fixed registry of agent personas.
//
// # Roles
//
// Every persona is keyed by a Role drawn from a closed set:
//
//	researcher, analyst, creator, critic, planner,
//	executor, mediator, teacher, ethical_guardian, domain_expert
//
// # Profiles
//
// A Profile carries the persona's description, capability tags, generation
// parameters (model, temperature, max output tokens) and the instruction text
// that is folded into the system prompt of the lead agent:
//
//	reg := profiles.Default()
//	p, ok := reg.Lookup(profiles.RolePlanner)
//
// The registry is built once at startup and is read-only afterwards. Lookups
// return copies, so callers cannot mutate shared state. Overrides from the
// configuration file are applied with WithOverrides before the registry is
// handed to the conversation service.
package profiles
