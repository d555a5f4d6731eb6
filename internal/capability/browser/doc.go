/*
Package browser provides the Browser global: one sandboxed view per
session.

# Overview

A view pairs a goja JavaScript runtime with a parsed document. HTML
handed to Browser.loadHtml is sanitized with bluemonday and then parsed
twice, once for CSS queries (goquery) and once for XPath (htmlquery).
Scripts run through Browser.eval see a read-only document, a console and
a host bridge; they cannot reach the network, the filesystem or timers.

# Lifecycle

Views are created asynchronously. Until the launch completes the view
reports not ready, and the engine holds fragments that reference Browser
for a bounded wait. Scripts evaluated before a document is loaded are
buffered and run once the document arrives.

# Events

Views queue Events of a closed set of kinds. The host drains them on its
tick and routes them through a Router, whose command table maps
bridge.send names to handlers.

# Resilience

Each view owns a circuit breaker. Script exceptions are ordinary results;
interrupts and host faults count as failures, and an open breaker turns
calls into unavailable-capability errors.
*/
package browser
