// Package audio provides the PCM WAV header codec and the streaming
// Assembler that turns chunked audio callbacks into a valid WAV object
// through a storage sink, with a two-phase header write.
package audio
