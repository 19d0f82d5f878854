package terminal

// TerminalHTML returns the browser-facing terminal page: an xterm.js client
// speaking the tagged binary protocol from spec.md §6 over a WebSocket.
func TerminalHTML() string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>cmdr terminal</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@xterm/xterm@5.5.0/css/xterm.css">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        html, body { height: 100%; width: 100%; overflow: hidden; background: #1a1b26; }
        #terminal { height: 100%; width: 100%; }
        .xterm { height: 100%; padding: 8px; }
        #connection-status {
            position: fixed;
            top: 8px;
            right: 8px;
            padding: 4px 12px;
            border-radius: 4px;
            font-family: monospace;
            font-size: 12px;
            z-index: 1000;
            transition: opacity 0.3s;
        }
        .status-connecting { background: #e0af68; color: #1a1b26; }
        .status-connected { background: #9ece6a; color: #1a1b26; opacity: 0; }
        .status-disconnected { background: #f7768e; color: #1a1b26; }
    </style>
</head>
<body>
    <div id="connection-status" class="status-connecting">Connecting...</div>
    <div id="terminal"></div>

    <script src="https://cdn.jsdelivr.net/npm/@xterm/xterm@5.5.0/lib/xterm.min.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/@xterm/addon-fit@0.10.0/lib/addon-fit.min.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/@xterm/addon-web-links@0.11.0/lib/addon-web-links.min.js"></script>
    <script>
        const statusEl = document.getElementById('connection-status');
        function setStatus(status, text) {
            statusEl.className = 'status-' + status;
            statusEl.textContent = text;
        }

        // Wire tags (spec.md section on the transport-facing contract).
        const TAG_INPUT = 0x30;            // '0' C -> S
        const TAG_RESIZE_TERMINAL = 0x31;  // '1' C -> S
        const TAG_PAUSE = 0x32;            // '2' C -> S
        const TAG_RESUME = 0x33;           // '3' C -> S
        const TAG_OUTPUT = 0x30;           // '0' S -> C
        const TAG_SET_WINDOW_TITLE = 0x31; // '1' S -> C
        const TAG_SET_PREFERENCES = 0x32;  // '2' S -> C

        const theme = {
            background: '#1a1b26', foreground: '#c0caf5', cursor: '#c0caf5',
            cursorAccent: '#1a1b26', selectionBackground: '#33467c',
            black: '#15161e', red: '#f7768e', green: '#9ece6a', yellow: '#e0af68',
            blue: '#7aa2f7', magenta: '#bb9af7', cyan: '#7dcfff', white: '#a9b1d6',
            brightBlack: '#414868', brightRed: '#f7768e', brightGreen: '#9ece6a',
            brightYellow: '#e0af68', brightBlue: '#7aa2f7', brightMagenta: '#bb9af7',
            brightCyan: '#7dcfff', brightWhite: '#c0caf5'
        };

        const term = new Terminal({
            cursorBlink: true,
            cursorStyle: 'block',
            fontSize: 14,
            fontFamily: 'Menlo, Monaco, "Courier New", monospace',
            theme: theme,
            allowProposedApi: true
        });

        const fitAddon = new FitAddon.FitAddon();
        term.loadAddon(fitAddon);
        term.loadAddon(new WebLinksAddon.WebLinksAddon());
        term.open(document.getElementById('terminal'));
        fitAddon.fit();

        const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
        const urlParams = new URLSearchParams(window.location.search);
        const sessionId = urlParams.get('session_id') || '';
        const wsUrl = protocol + '//' + window.location.host + '/terminal/ws?session_id=' +
            encodeURIComponent(sessionId) + '&cols=' + term.cols + '&rows=' + term.rows;

        const decoder = new TextDecoder();
        const encoder = new TextEncoder();

        let ws = null;
        let reconnectAttempts = 0;
        const maxReconnectAttempts = 5;

        function sendFrame(tag, payload) {
            if (!ws || ws.readyState !== WebSocket.OPEN) return;
            const bytes = typeof payload === 'string' ? encoder.encode(payload) : payload;
            const frame = new Uint8Array(bytes.length + 1);
            frame[0] = tag;
            frame.set(bytes, 1);
            ws.send(frame.buffer);
        }

        function connect() {
            setStatus('connecting', 'Connecting...');
            ws = new WebSocket(wsUrl);
            ws.binaryType = 'arraybuffer';

            ws.onopen = function() {
                setStatus('connected', 'Connected');
                reconnectAttempts = 0;
                term.focus();
            };

            ws.onmessage = function(event) {
                const data = new Uint8Array(event.data);
                if (data.length === 0) return;
                const tag = data[0];
                const payload = data.subarray(1);
                switch (tag) {
                    case TAG_OUTPUT:
                        term.write(decoder.decode(payload));
                        break;
                    case TAG_SET_WINDOW_TITLE:
                        document.title = decoder.decode(payload) + ' — cmdr terminal';
                        break;
                    case TAG_SET_PREFERENCES:
                        break;
                }
            };

            ws.onclose = function() {
                setStatus('disconnected', 'Disconnected');
                if (reconnectAttempts < maxReconnectAttempts) {
                    reconnectAttempts++;
                    setTimeout(connect, 1000 * reconnectAttempts);
                } else {
                    term.write('\r\n\x1b[31mConnection lost. Refresh the page to reconnect.\x1b[0m\r\n');
                }
            };
        }

        term.onData(function(data) {
            sendFrame(TAG_INPUT, data);
        });

        function sendResize() {
            sendFrame(TAG_RESIZE_TERMINAL, JSON.stringify({ columns: term.cols, rows: term.rows }));
        }

        window.addEventListener('resize', function() {
            fitAddon.fit();
            sendResize();
        });

        connect();
    </script>
</body>
</html>`
}
