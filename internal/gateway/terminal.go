package gateway

import (
	"fmt"
	"html"
	"net/http"
)

// terminalPageTemplate is a minimal xterm.js client that opens a WebSocket
// back to this same path, passing the token as a query parameter. Real
// deployments are expected to front this with their own UI; this page only
// needs to exercise the attach protocol end to end.
const terminalPageTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>cli-sandbox terminal</title>
  <script src="https://cdn.jsdelivr.net/npm/xterm@5/lib/xterm.js"></script>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/xterm@5/css/xterm.css">
  <style>html,body,#term{height:100%%;margin:0;background:#000}</style>
</head>
<body>
  <div id="term"></div>
  <script>
    var term = new Terminal();
    term.open(document.getElementById('term'));
    var params = new URLSearchParams(window.location.search);
    var token = params.get('token') || '';
    var proto = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
    var ws = new WebSocket(proto + '//' + window.location.host + '/ws/%s?token=' + encodeURIComponent(token));
    ws.binaryType = 'arraybuffer';
    ws.onmessage = function(ev) { term.write(new Uint8Array(ev.data)); };
    term.onData(function(data) { ws.send(data); });
  </script>
</body>
</html>
`

// serveTerminalPage writes the static terminal client page for sessionID,
// with caching disabled so a stale page never embeds a consumed token.
func serveTerminalPage(w http.ResponseWriter, sessionID string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, terminalPageTemplate, html.EscapeString(sessionID))
}
