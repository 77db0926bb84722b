// Package admin implements the gateway's fixed registry-manipulating tool
// collection, exposed under the reserved "0ne" prefix alongside every
// backend's own tools in tools/list.
package admin
