// Package session bridges the smart-glasses device SDK and the recording
// lifecycle. A binding subscribes to one session's audio and transcription
// streams, recognizes the start and stop voice commands, and tears the
// connection down cleanly on disconnect. The registry answers "is this user
// connected" for the rest of the service.
package session
