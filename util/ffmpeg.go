package util

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// VideoExporter 把一组分镜视频拼接成完整的故事板成片
type VideoExporter struct {
	tempDir    string
	outputPath string
}

func NewVideoExporter(outputPath string) (*VideoExporter, error) {
	tempDir, err := os.MkdirTemp("", "storyboard_export")
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %v", err)
	}
	return &VideoExporter{
		tempDir:    tempDir,
		outputPath: outputPath,
	}, nil
}

// Cleanup 清理临时文件
func (vp *VideoExporter) Cleanup() {
	os.RemoveAll(vp.tempDir)
}

// downloadAll 并发下载所有分镜视频，任何一个失败则整体失败
func (vp *VideoExporter) downloadAll(urls []string) ([]string, error) {
	var wg sync.WaitGroup
	errs := make(chan error, len(urls))
	files := make([]string, len(urls))

	for i, url := range urls {
		wg.Add(1)
		go func(index int, videoURL string) {
			defer wg.Done()

			filename := fmt.Sprintf("scene_%d%s", index, fileExtension(videoURL))
			if err := DownloadAsset(videoURL, filepath.Join(vp.tempDir, filename)); err != nil {
				errs <- fmt.Errorf("下载分镜视频 %d 失败: %v", index, err)
				return
			}
			files[index] = filename
		}(i, url)
	}

	wg.Wait()
	close(errs)

	var errorList []string
	for err := range errs {
		errorList = append(errorList, err.Error())
	}
	if len(errorList) > 0 {
		return nil, fmt.Errorf("下载过程中发生错误: %s", strings.Join(errorList, "; "))
	}
	return files, nil
}

func fileExtension(url string) string {
	for _, ext := range []string{".mp4", ".mov", ".mkv", ".webm"} {
		if strings.Contains(url, ext) {
			return ext
		}
	}
	return ".mp4"
}

// createConcatList 生成 FFmpeg concat 列表文件，顺序即分镜顺序
func (vp *VideoExporter) createConcatList(files []string) (string, error) {
	listFile := filepath.Join(vp.tempDir, "concat_list.txt")
	file, err := os.Create(listFile)
	if err != nil {
		return "", fmt.Errorf("创建列表文件失败: %v", err)
	}
	defer file.Close()

	for _, filename := range files {
		fullPath := filepath.Join(vp.tempDir, filename)
		if _, err := file.WriteString(fmt.Sprintf("file '%s'\n", fullPath)); err != nil {
			return "", fmt.Errorf("写入列表文件失败: %v", err)
		}
	}
	return listFile, nil
}

// concat 先尝试流复制拼接，失败再回退重新编码
func (vp *VideoExporter) concat(listFile string) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg未找到，请先安装ffmpeg并添加到PATH: %v", err)
	}

	cmd := exec.Command("ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		vp.outputPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err == nil {
		return nil
	} else {
		log.Printf("流复制失败，尝试重新编码: %v", err)
	}

	cmd = exec.Command("ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		vp.outputPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("视频拼接失败: %v", err)
	}
	return nil
}

// ExportStoryboard 下载并按顺序拼接分镜视频，输出到 outputPath
func ExportStoryboard(urls []string, outputPath string) error {
	if len(urls) == 0 {
		return fmt.Errorf("没有可拼接的分镜视频")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %v", err)
	}

	exporter, err := NewVideoExporter(outputPath)
	if err != nil {
		return err
	}
	defer exporter.Cleanup()

	log.Printf("开始导出 %d 个分镜视频", len(urls))

	files, err := exporter.downloadAll(urls)
	if err != nil {
		return err
	}
	listFile, err := exporter.createConcatList(files)
	if err != nil {
		return err
	}
	if err := exporter.concat(listFile); err != nil {
		return err
	}

	log.Printf("故事板导出完成: %s", outputPath)
	return nil
}
