package utils

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReadURLsFromFile 读取显式URL列表
//
// 每行一个绝对URL (http/https) 或以"/"开头的路径;以"["开头的行按JSON字符串数组解析。
// 空行和"#"注释行被跳过,其余无法识别的行记录警告后跳过。
func ReadURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开URL文件失败: %w", err)
	}
	defer file.Close()

	urls := make([]string, 0)
	seen := make(map[string]bool)
	add := func(lineNum int, entry string) {
		entry = strings.TrimSpace(entry)
		if !isURLEntry(entry) {
			Warnf("跳过无效URL (行 %d): %s", lineNum, entry)
			return
		}
		if seen[entry] {
			return
		}
		seen[entry] = true
		urls = append(urls, entry)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			var entries []interface{}
			if err := json.Unmarshal([]byte(line), &entries); err != nil {
				Warnf("跳过无效JSON数组 (行 %d): %v", lineNum, err)
				continue
			}
			for _, e := range entries {
				if s, ok := e.(string); ok {
					add(lineNum, s)
				}
			}
			continue
		}
		add(lineNum, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取URL文件失败: %w", err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("URL文件中没有有效的URL: %s", path)
	}

	Infof("📄 从文件加载了 %d 个URL", len(urls))
	return urls, nil
}

func isURLEntry(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "/")
}
