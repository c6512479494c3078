/*
Package spv verifies that wallet transactions are included in blocks of the
best chain without downloading the blocks.

A Verifier scans the wallet for unverified transactions on every tick, asks
the network for a merkle branch for each one, and checks the branch against
the merkle root of the locally stored header at the claimed height. Inner
nodes of a branch that decode as a bitcoin transaction are rejected, since a
64 byte transaction can be passed off as an inner node and used to prove
inclusion of a transaction that was never mined.

When the network switches to a different chain, transactions verified (or
requested) at or above the fork point are invalidated and re-verified from
scratch.

Known limitation: a proof that fails to verify leaves its transaction in the
requested set. It is not asked for again until a reorg clears it, and there
is no timeout on requests that are never answered.
*/
package spv
