// Package snapshot encodes and decodes meshkv snapshot files.
//
// Every file shares one container layout:
//
//	[magic:8]          "MESHRDB\0" single-file, "MESHDFS\0" shard, "MESHSUM\0" summary
//	[version:2]        big-endian, currently 1
//	[flags:1]          bit 0: body encrypted
//	[hdrLen:uvarint][header:hdrLen]   protowire-encoded Header
//	[bodyLen:8][body:bodyLen]
//	[checksum:32]      SHA-256 of all bytes above
//
// Single-file body (all shards, legacy "rdb" format):
//
//	SHARD_BEGIN idx seq, RECORD..., SHARD_END count, ..., EOF total
//
// Shard file body ("df" format, one file per shard):
//
//	RECORD..., EOF count
//
// The summary file body is a JSON Manifest naming every shard file. It is
// written after all shard files, so its presence marks a complete snapshot.
package snapshot
