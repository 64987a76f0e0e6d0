package dice

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	mrand "math/rand"
)

// Roller 产生一次真实掷骰
type Roller interface {
	Roll() (Faces, error)
}

// CryptoRoller 使用加密安全的随机数生成器
type CryptoRoller struct {
	reader io.Reader
}

// NewRoller 创建默认掷骰器
func NewRoller() *CryptoRoller {
	return &CryptoRoller{reader: rand.Reader}
}

// NewRollerFrom 使用指定的随机源，测试中可传入固定字节流
func NewRollerFrom(r io.Reader) *CryptoRoller {
	return &CryptoRoller{reader: r}
}

// Roll 三个骰子各自独立均匀地取 [1,6]
func (c *CryptoRoller) Roll() (Faces, error) {
	var f Faces
	for i := range f {
		n, err := rand.Int(c.reader, big.NewInt(6))
		if err != nil {
			return Faces{}, fmt.Errorf("生成骰子点数失败: %w", err)
		}
		f[i] = int(n.Int64()) + 1
	}
	return f, nil
}

// Shake 摇动动画用的随机点数，只用于显示
func Shake() Faces {
	return Faces{mrand.Intn(6) + 1, mrand.Intn(6) + 1, mrand.Intn(6) + 1}
}
