// Package queue is the playback queue engine. It owns the ordered list of
// queue items and their segments, converts segments to audio in the
// background, and drives playback across segment and item boundaries.
//
// Playback may begin as soon as the first segment of an item is ready;
// conversion of later segments continues while earlier ones play. Queue
// metadata is persisted to the blob store after every change and rehydrated
// with Load. Audio resources are derived from stored bytes on demand and are
// never persisted.
package queue
