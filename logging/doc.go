// Package logging defines the minimal structured logging contract used across
// FinMesh together with ready-made adapters for slog and zerolog. Library
// packages accept a Logger and default to NoOpLogger so embedding FinMesh
// never forces a logging dependency on the host application.
package logging
