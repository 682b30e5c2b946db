// Package reminder provides the domain types shared by every storage tier.
//
// This package contains type definitions and small value helpers only. All
// other internal packages import reminder; reminder imports nothing internal.
// This keeps the domain model the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - All timestamps are UTC with millisecond precision (see Normalize)
//   - JSON tags use camelCase; the export envelope is a public format
//   - Status changes only through explicit updates, except the lazy
//     active → overdue promotion performed by read paths
package reminder
