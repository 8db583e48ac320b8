// Package protocol implements the frame codec that protoip peers use to talk
// to each other over a plain byte stream.
//
// The protocol aims to be
//
// - trivial to parse: every read consumes exactly one frame
// - robust to single dropped frames
// - independent of the reliability of the carrier beyond in-order bytes
//
// - `Frame` - The wire unit. Always FrameSize (1024) bytes.
// - `Kind` - What the frame carries: data, a control signal of the transfer
//            state machine, or an application level kind we pass through.
// - `Transmission` - One logical message, split into DATA frames numbered
//                    0..N-1 and bracketed by SOT/EOT.
//
// === Frame layout
//
// All integers are 4 bytes, little-endian.
//
//   ```
//   offset 0..3   kind
//   offset 4..7   sequence id
//   offset 8..11  payload length
//   offset 12..   payload, zero padded up to FrameSize
//   ```
//
// The padding is never meaningful, consumers read payload length bytes.
//
// === Transmission
//
//  ```
//    > SOT (payload: frame count)
//    < ACK
//    > DATA 0
//    > DATA 1
//    > ...
//    > DATA N-1
//    > EOT
//    < ACK                       all frames present
//  ```
//
// If the receiver finds holes in the sequence ids it asks for them again
//
//  ```
//    < REPEAT (payload: missing ids)
//    > DATA i
//    > DATA j
//    < ACK
//  ```
//
// The sender announces the frame count in the SOT payload so that missing
// frames at the tail are detected as well. A SOT without payload is accepted
// from older peers, in which case only holes between received ids are found.
//
// Both sides give up after MaxTries repair rounds.
//
// === File transfer
//
//  ```
//    > FTS
//    < ACK
//    > transmission(file name)
//    > transmission(file size, decimal text)
//    > transmission(file bytes)
//    > FTE
//    < ACK
//  ```
//
// === Ping
//
// A PING is a whole encoded frame sent as the payload of a transmission.
// The peer answers with a PONG frame sent the same way.
package protocol
