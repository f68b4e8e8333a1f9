package engine

import "testing"

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		ok          bool
		wantSeconds float64
		wantBitrate float64
	}{
		{
			name:        "standard progress line",
			line:        "frame=  240 fps= 24 q=28.0 size=    1024kB time=00:00:10.04 bitrate= 835.2kbits/s speed=1.01x",
			ok:          true,
			wantSeconds: 10.04,
			wantBitrate: 835.2,
		},
		{
			name:        "long broadcast hours",
			line:        "size= 9000000kB time=124:10:05.50 bitrate=2500.0kbits/s",
			ok:          true,
			wantSeconds: 124*3600 + 10*60 + 5.5,
			wantBitrate: 2500,
		},
		{
			name:        "missing bitrate",
			line:        "size=N/A time=00:01:00.00 speed=1x",
			ok:          true,
			wantSeconds: 60,
			wantBitrate: 0,
		},
		{name: "not a progress line", line: "Stream mapping:", ok: false},
		{name: "no timemark yet", line: "size=       0kB time=N/A bitrate=N/A", ok: false},
		{name: "malformed timemark", line: "time=00:99:00.00", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			progress, ok := parseProgress(tc.line)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !tc.ok {
				return
			}
			if progress.Seconds != tc.wantSeconds {
				t.Errorf("seconds = %v, want %v", progress.Seconds, tc.wantSeconds)
			}
			if progress.BitrateKbps != tc.wantBitrate {
				t.Errorf("bitrate = %v, want %v", progress.BitrateKbps, tc.wantBitrate)
			}
		})
	}
}

func TestParseTimemark(t *testing.T) {
	if _, ok := parseTimemark("10:30"); ok {
		t.Error("two-part timemark accepted")
	}
	if _, ok := parseTimemark("-1:00:00"); ok {
		t.Error("negative hours accepted")
	}
	seconds, ok := parseTimemark("01:02:03.50")
	if !ok || seconds != 3723.5 {
		t.Fatalf("parseTimemark = %v, %v", seconds, ok)
	}
}
