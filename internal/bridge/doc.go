// Package bridge moves state between a concrete snapshot and the symbolic
// engine: ImportState and Inject on the way in, ExportBindings and Apply on
// the way back out.
package bridge
