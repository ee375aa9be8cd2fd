// Package main 是签发访问令牌的命令行工具。
//
// 服务本身不管理用户，令牌由持有 jwt.secret 的一方签发：
// 可以是外部账号系统，也可以是运维人员用本工具手动签发。
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"llm-amnesia-go/internal/config"
	"llm-amnesia-go/pkg/token"
)

type options struct {
	ConfigPath string
	UserID     string
	Username   string
	Role       string
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	opts := options{}
	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.ConfigPath, "config", "./configs/config.yaml", "配置文件路径")
	fs.StringVar(&opts.UserID, "user", "", "用户 ID（必填）")
	fs.StringVar(&opts.Username, "name", "", "用户名，默认与用户 ID 相同")
	fs.StringVar(&opts.Role, "role", "USER", "角色，USER 或 ADMIN")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.UserID == "" {
		return errors.New("必须通过 -user 指定用户 ID")
	}
	if opts.Username == "" {
		opts.Username = opts.UserID
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if cfg.JWT.Secret == "" {
		return errors.New("配置中缺少 jwt.secret")
	}

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	accessToken, err := jwtManager.GenerateToken(opts.UserID, opts.Username, opts.Role)
	if err != nil {
		return fmt.Errorf("签发 access token 失败: %w", err)
	}
	refreshToken, err := jwtManager.GenerateRefreshToken(opts.UserID, opts.Username, opts.Role)
	if err != nil {
		return fmt.Errorf("签发 refresh token 失败: %w", err)
	}

	fmt.Fprintf(out, "access_token=%s\n", accessToken)
	fmt.Fprintf(out, "refresh_token=%s\n", refreshToken)
	return nil
}
