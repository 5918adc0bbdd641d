package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>UVC Face Camera</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        :root { --bg: #10141a; --panel: #1b222c; --text: #e6edf3; --muted: #8b98a5; --accent: #3fb950; }
        body { margin: 0; font-family: system-ui, sans-serif; background: var(--bg); color: var(--text); }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: var(--panel); border-radius: 8px; padding: 14px; }
        .stat-value { font-size: 28px; font-weight: 600; }
        .stat-label, .panel-subtitle { color: var(--muted); font-size: 13px; }
        .btn { background: #30363d; color: var(--text); border: 0; border-radius: 6px; padding: 8px 12px; cursor: pointer; }
        .btn:hover { background: #484f58; }
        .btn-primary { background: var(--accent); color: #000; }
        .badge { padding: 4px 8px; border-radius: 10px; background: #30363d; font-size: 12px; }
        #stream { width: 100%; background: #000; display: block; }
        ul { padding-left: 18px; }
    </style>
</head>
<body>
<div class="app">
    <div class="header">
        <h1>UVC Face Camera</h1>
        <span class="badge" id="camera-state">--</span>
    </div>
    <div class="grid">
        <div class="panel">
            <img id="stream" src="/stream" alt="Live feed">
            <div style="margin-top:10px;display:flex;gap:8px;flex-wrap:wrap;">
                <button class="btn" data-action="/api/camera/open">Open</button>
                <button class="btn" data-action="/api/camera/preview/start">Start preview</button>
                <button class="btn" data-action="/api/camera/preview/stop">Stop preview</button>
                <button class="btn" data-action="/api/camera/close">Close</button>
                <button class="btn btn-primary" data-action="/api/capture">Take photo</button>
            </div>
            <p class="panel-subtitle" id="message"></p>
        </div>
        <div class="panel">
            <div class="stat-label">Pipeline FPS</div>
            <div class="stat-value" id="fps">--</div>
            <div class="stat-label" id="target-fps">target: -- fps</div>
            <div class="stat-label" style="margin-top:12px;">Faces</div>
            <div class="stat-value" id="faces">--</div>
            <div class="stat-label" id="frames">frames: --</div>
            <h3>Recent detections</h3>
            <ul id="history"></ul>
        </div>
    </div>
</div>
<script>
const $ = (id) => document.getElementById(id);

document.querySelectorAll("[data-action]").forEach((btn) => {
    btn.addEventListener("click", async () => {
        const resp = await fetch(btn.dataset.action, { method: "POST" });
        const body = await resp.json();
        $("message").textContent = body.error || body.path || "ok";
        if (body.camera) $("camera-state").textContent = body.camera.state;
    });
});

const status = new EventSource("/api/status/stream");
status.onmessage = (ev) => {
    const s = JSON.parse(ev.data);
    $("fps").textContent = s.monitor.current_fps.toFixed(2);
    $("target-fps").textContent = "target: " + s.monitor.target_fps + " fps";
    $("frames").textContent = "frames: " + s.monitor.frames_processed;
    if (s.camera) $("camera-state").textContent = s.camera.state;
    $("history").innerHTML = s.detection_history.map((h) =>
        "<li>#" + h.frame_number + ": " + h.detections.length + " face(s)</li>").join("");
};

const detections = new EventSource("/api/detections/stream");
detections.onmessage = (ev) => {
    const d = JSON.parse(ev.data);
    $("faces").textContent = d.detections.length;
};
</script>
</body>
</html>
`
