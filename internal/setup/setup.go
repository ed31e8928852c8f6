// Package setup renders the plain-text instructions producers follow to hook
// their tool sessions up to the relay.
package setup

import (
	"io"
	"text/template"
)

type Params struct {
	ServerURL string
}

var instructions = template.Must(template.New("setup").Parse(`
AI HQ SETUP INSTRUCTIONS
========================

AI HQ is a pixel-art office that shows tool sessions in real time.
Server URL: {{.ServerURL}}


STEP 1: Create the event script
-------------------------------
Save the following as ~/ai-hq/send-event.sh and make it executable
(chmod +x ~/ai-hq/send-event.sh):

--- START OF SCRIPT ---
#!/bin/sh
TYPE="$1"
TOOL="${2:-}"
DIR="${CLAUDE_CWD:-$(pwd)}"
SESSION_ID=$(printf '%s-%s' "$(hostname)" "$DIR" | md5sum | cut -c1-12)
TITLE=$(basename "$DIR")
curl -s -m 2 -X POST "{{.ServerURL}}/event" \
  -H 'Content-Type: application/json' \
  -d "{\"type\":\"$TYPE\",\"tool\":\"$TOOL\",\"sessionId\":\"$SESSION_ID\",\"title\":\"$TITLE\"}" \
  >/dev/null 2>&1 || true
--- END OF SCRIPT ---

On Windows, the PowerShell equivalent is:

--- START OF SCRIPT ---
param([string]$Type, [string]$Tool = "")
$cwd = if ($env:CLAUDE_CWD) { $env:CLAUDE_CWD } else { (Get-Location).Path }
$key = "$env:COMPUTERNAME-$cwd"
$md5 = [System.Security.Cryptography.MD5]::Create()
$sessionId = [System.BitConverter]::ToString($md5.ComputeHash([System.Text.Encoding]::UTF8.GetBytes($key))).Replace("-","").Substring(0,12)
$title = Split-Path $cwd -Leaf
$body = @{ type = $Type; tool = $Tool; sessionId = $sessionId; title = $title } | ConvertTo-Json
try { Invoke-RestMethod -Uri "{{.ServerURL}}/event" -Method Post -Body $body -ContentType "application/json" -TimeoutSec 2 | Out-Null } catch {}
--- END OF SCRIPT ---


STEP 2: Test the script
-----------------------
  ~/ai-hq/send-event.sh tool_start Test

A character should appear at {{.ServerURL}}


STEP 3: Configure the hooks
---------------------------
Merge this into ~/.claude/settings.json:

{
  "hooks": {
    "PreToolUse": [
      { "matcher": ".*", "hooks": [ { "type": "command", "command": "~/ai-hq/send-event.sh tool_start $CLAUDE_TOOL_NAME" } ] }
    ],
    "PostToolUse": [
      { "matcher": ".*", "hooks": [ { "type": "command", "command": "~/ai-hq/send-event.sh tool_end $CLAUDE_TOOL_NAME" } ] }
    ]
  }
}

There is no Stop hook: session_end events are ignored by the server, and
characters stay at their desks between actions.


STEP 4: Restart your session
----------------------------
Hooks are read at startup. Every tool use now reports to AI HQ.


TROUBLESHOOTING
---------------
1. curl {{.ServerURL}}/status    shows connected clients and recent events
2. Run the script by hand and watch /status for the event
3. Make sure settings.json is valid JSON
4. Check that no firewall blocks port access to the server
`))

// Render writes the instructions for the given server URL.
func Render(w io.Writer, p Params) error {
	return instructions.Execute(w, p)
}
