// Package frames binds frame-sequence artifacts on disk, or pending in
// memory, to their header and per-frame timing sidecar.
//
// Files live at root/<YYYYMMDD>/<stream>/<name><ext> with a sibling
// <name>.txt timing log. Every mutation keeps the two artifacts paired:
// writes stage under a tmp/ subfolder the scanner globs never match, and
// deletes rename both artifacts to a time-suffixed name before unlinking
// either.
package frames
