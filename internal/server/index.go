package server

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>sdrecord</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
<main class="container">
    <h1>sdrecord</h1>

    <article>
        <header><strong id="state">IDLE</strong> <span id="message"></span></header>
        <p id="elapsed">0 s</p>
        <p id="error" style="color: var(--pico-del-color)"></p>
        <form id="start-form" role="group">
            <input type="text" id="name" placeholder="File name (optional)">
            <button type="submit">Record</button>
        </form>
        <div role="group">
            <button class="secondary" onclick="post('/stop')">Stop</button>
            <button class="contrast" onclick="post('/toggle')">Toggle</button>
        </div>
        <footer><small id="volume"></small></footer>
    </article>

    <h2>Recordings</h2>
    <table>
        <thead><tr><th>File</th><th>Size</th><th>Date</th></tr></thead>
        <tbody id="files"></tbody>
    </table>
</main>

<script>
function render(status) {
    document.getElementById('state').textContent = status.state || status.status;
    document.getElementById('elapsed').textContent = Math.floor((status.elapsed_ms || 0) / 1000) + ' s';
    document.getElementById('error').textContent = status.last_error || '';
    if (status.message !== undefined) {
        document.getElementById('message').textContent = status.message;
    }
    if (status.volume) {
        const free = (status.volume.free / 1048576).toFixed(1);
        document.getElementById('volume').textContent = free + ' MB free on ' + status.volume.path;
    }
}

async function refreshStatus() {
    const res = await fetch('/status');
    render(await res.json());
}

async function refreshFiles() {
    const res = await fetch('/api/files');
    const body = await res.json();
    const rows = body.files.map(f =>
        '<tr><td><a href="' + f.download_url + '">' + f.name + '</a></td><td>' +
        f.size_human + '</td><td>' + f.mod_time_human + '</td></tr>');
    document.getElementById('files').innerHTML = rows.join('');
}

async function post(path, body) {
    const res = await fetch(path, {method: 'POST', body: body});
    if (!res.ok) {
        const err = await res.json();
        document.getElementById('error').textContent = err.error;
    }
}

document.getElementById('start-form').addEventListener('submit', e => {
    e.preventDefault();
    const form = new URLSearchParams();
    form.set('name', document.getElementById('name').value);
    post('/start', form);
});

function connect() {
    const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/events');
    ws.onmessage = e => {
        const msg = JSON.parse(e.data);
        render(msg.data);
        if (msg.data.state === 'IDLE') {
            refreshFiles();
        }
    };
    ws.onclose = () => setTimeout(connect, 2000);
}

refreshStatus();
refreshFiles();
setInterval(refreshStatus, 1000);
connect();
</script>
</body>
</html>`
