// Package capability provides the capability registry, invoker, rolling
// statistics and health monitoring that back agent plan execution.
//
// Core pieces:
//   - Capability: uniform interface over one external provider
//   - Registry: named capability set populated at composition time
//   - Invoker: deadline-bounded execution returning Observations
//   - Stats: per-capability success/failure counters (injected, not ambient)
//   - HealthMonitor: concurrent advisory probes with a startup gate for
//     capabilities registered as critical
package capability
