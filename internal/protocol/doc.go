// Package protocol defines the messages exchanged between the interface and
// the worker.
//
// Commands and results share one Message type discriminated by Kind. Filters
// and sorts never cross the wire as behavior; both sides build the same
// filter.Registry and refer to its entries by index. Diffs carry positions
// into item lists the receiver already holds, wrapped with the selection that
// produced them so a receiver whose selection has since changed can drop
// them.
//
// Reuse these constructors when adding commands so every message stays
// decodable by older workers built from the same configuration.
package protocol
