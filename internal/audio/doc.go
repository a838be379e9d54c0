// Package audio owns the shared output context and turns stored TTS bytes
// into playable resources. Output goes through oto/v3; mp3 and wav input is
// decoded with beep.
package audio
