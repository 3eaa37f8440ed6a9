// Package robust is the robustness spine: per-operation circuit breakers,
// an exponential-backoff retry loop, and a health checker built on the
// same accounting. See Spine and WrapOperation.
package robust
