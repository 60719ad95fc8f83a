// Package session provides orchestrated login state management for devicetrust.
//
// This package coordinates phone verification, password login, OTP step-up,
// device trust and forced sign-out into a single state machine.
//
// # Overview
//
// The session package provides:
//   - The login state machine (phone → password → otp → authenticated)
//   - Trusted-device fast path (skip OTP on recognized devices)
//   - Multi-account conflict detection on shared devices
//   - Pre-flight rate-limit checks and block surfacing
//   - Forced sign-out when another device takes over the account
//   - Back/Reset navigation that never leaks partial sessions
//
// # Architecture
//
// Orchestrator coordinates multiple services:
//   - authapi.Client - Backend credential and OTP calls
//   - fingerprint.Generator - Device identification
//   - security.Limiter - Failed-login and device-change rate limiting
//   - registry.Service - Server-held device records
//   - watcher.Watcher - Active-device subscription
//
// # Basic Usage
//
//	import "github.com/casaflow/devicetrust/pkg/session"
//
//	// Create orchestrator
//	orch := session.New(client, session.NewTokenAuth(), generator,
//		limiter, registryService, localStore, session.Options{})
//
//	// Walk the login steps
//	result := orch.SubmitPhone(ctx, "+821012345678")
//	result = orch.SubmitPassword(ctx, password)
//	if result.Step == session.StepOTP {
//		result = orch.SubmitOTP(ctx, code)
//	}
//	if result.Authenticated {
//		// Signed in; result.UsedFastPath tells whether OTP was skipped
//	}
//
// Every Submit method returns a Result instead of panicking; Result.Err
// carries the structured failure and the step the machine stayed at.
package session
