// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, stats, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WebSocketHandler handles WebSocket upgrade requests for hub.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, and registers the new Client; the hub launches its pumps.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}
		hub.ServeWS(w, r)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat relay is running!")
}

// StatsHandler reports connection and channel member counts as JSON.
func StatsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hub.Stats()); err != nil {
			hub.log.Warn("Error writing stats response", "error", err)
		}
	}
}

// TestPageHandler serves an HTML page that speaks the relay protocol: it can
// join a channel, send messages and username changes, and shows fan-out and
// history deduplicated by event id.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPageHTML)
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="usernameInput" placeholder="Username" value="guest">
        <input type="text" id="channelInput" placeholder="Channel" value="#general">
        <button id="historyButton" onclick="loadHistory()" disabled>Join</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const seen = new Set();
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const usernameInput = document.getElementById('usernameInput');
        const channelInput = document.getElementById('channelInput');
        const sendButton = document.getElementById('sendButton');
        const historyButton = document.getElementById('historyButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');
        let lastUsername = usernameInput.value;

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function showEvent(ev) {
            if (ev.id && seen.has(ev.id)) {
                return;
            }
            if (ev.id) {
                seen.add(ev.id);
            }
            if (ev.type === 'username_change') {
                addLine(ev.channel + ' * ' + ev.message, 'purple');
            } else {
                addLine(ev.channel + ' <' + ev.username + '> ' + ev.message, 'green');
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = connected ? 'status connected' : 'status disconnected';
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            historyButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                addLine('Connected to GoChat relay');
                updateStatus(true);
            };
            ws.onmessage = function(event) {
                const data = JSON.parse(event.data);
                if (data.type === 'history') {
                    addLine('--- history for ' + (data.channel || '#general') + ' ---');
                    data.messages.forEach(showEvent);
                } else if (data.type === 'error') {
                    addLine('error: ' + data.error + ' ' + (data.message || ''), 'red');
                } else {
                    showEvent(data);
                }
            };
            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() {
                addLine('Connection error', 'red');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(frame) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(frame));
            }
        }

        function loadHistory() {
            send({ type: 'get_history', channel: channelInput.value });
        }

        function sendMessage() {
            const username = usernameInput.value.trim();
            if (username !== lastUsername) {
                send({
                    type: 'username_change',
                    username: username,
                    oldUsername: lastUsername,
                    message: lastUsername + ' is now ' + username,
                    channel: channelInput.value
                });
                lastUsername = username;
            }
            const message = messageInput.value.trim();
            if (message) {
                send({ type: 'message', username: username, message: message, channel: channelInput.value });
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
