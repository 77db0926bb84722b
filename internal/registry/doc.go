// Package registry owns every backend connection and the merged tool
// catalog the gateway serves, serializing mutation so a live add/remove/
// enable/disable/refresh never races a concurrent tools/call dispatch.
package registry
