// Package workflowdef models the YAML workflow definitions Flywheel
// executes: triggers, concurrency policy, jobs with matrix strategies, and
// shell steps.
//
// Definitions are parsed with gopkg.in/yaml.v3 and validated eagerly so the
// runner only ever sees well-formed graphs (known needs, no dependency
// cycles, parseable cron expressions).
package workflowdef
