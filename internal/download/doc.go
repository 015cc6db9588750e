// Package download fetches installer artifacts over HTTP.
//
// Two strategies share one surface: Direct streams a plain GET, LargeFile
// first resolves the confirmation token some hosts demand before serving big
// files and then streams the confirmed request. Both run asynchronously and
// report through a Transfer, whose Done channel closes once the Result is
// final. Each strategy tracks its current transfer so a supervisor can cancel
// the visible operation without holding a handle.
package download
