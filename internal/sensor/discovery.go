package sensor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Discovery はセンサーデバイスの検出を行うインターフェース
type Discovery interface {
	// ScanDevices は利用可能なデバイスパスを番号順に返す
	ScanDevices(ctx context.Context) ([]string, error)
	// IsDeviceAvailable はデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool
}

// LinuxDiscovery は /dev/video* を走査する Discovery
type LinuxDiscovery struct {
	pattern string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{pattern: "/dev/video*"}
}

var videoDevicePattern = regexp.MustCompile(`^/dev/video\d+$`)

// ScanDevices はシステム内のカラーカメラを番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if d.IsDeviceAvailable(ctx, match) && hasColorFormat(ctx, match) {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが読み取り可能なV4L2デバイスかチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !videoDevicePattern.MatchString(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// hasColorFormat は MJPG か YUYV を出力できるかを v4l2-ctl で確認する
// メタデータ用ノードやグレースケール専用ノードはここで除外される
func hasColorFormat(ctx context.Context, device string) bool {
	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext").Output()
	if err != nil {
		return false
	}
	out := string(output)
	return strings.Contains(out, "MJPG") || strings.Contains(out, "YUYV")
}

var deviceNumberPattern = regexp.MustCompile(`video(\d+)`)

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

// StaticDiscovery は固定のデバイス一覧を返す Discovery（テスト・シミュレータ用）
type StaticDiscovery struct {
	devices []string
}

// NewStaticDiscovery は新しいStaticDiscoveryを作成する
func NewStaticDiscovery(devices []string) *StaticDiscovery {
	return &StaticDiscovery{devices: devices}
}

// ScanDevices は登録済みのデバイスを返す
func (d *StaticDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	return append([]string(nil), d.devices...), nil
}

// IsDeviceAvailable は登録済みかどうかを返す
func (d *StaticDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	for _, dev := range d.devices {
		if dev == device {
			return true
		}
	}
	return false
}
