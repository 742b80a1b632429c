// Package relay implements circuit relay for peers that cannot reach each
// other directly: a connected relay server forwards frames between two
// peers that register with it, and a hole puncher attempts to upgrade a
// relayed circuit to a direct UDP path once both sides know each other's
// observed address.
//
// Relaying is capacity-bounded: a relay server caps the number of
// simultaneous circuits globally and per source peer, and throttles each
// circuit's forwarded byte rate, so a small number of abusive or merely
// busy peers cannot starve the rest.
package relay
