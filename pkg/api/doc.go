// Package api serves the invoicer procedures over HTTP.
//
// Every procedure is reachable at /api/rpc/{router}/{procedure}. Queries
// accept GET with a JSON-encoded "input" query parameter or POST with a JSON
// body; mutations accept POST only. Results are wrapped as {"data": ...} and
// failures use the error body written by httputil.WriteError.
//
// Procedures and their guards:
//
//	health.check           public
//	invoices.list          organization member with invoices:read
//	clients.list           organization member with clients:read
//	organizations.current  organization member
//	members.list           organization member
//	members.updateRole     owner or admin
//	organizations.delete   owner
//
// /api/openapi.json describes the same set.
package api
