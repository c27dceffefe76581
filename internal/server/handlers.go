package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tianxingj2021/wangge/internal/domain"
)

// handleStart 启动策略
//
// 路径参数既可以是策略类型（创建并启动新实例），也可以是已有
// 实例 ID（重新启动已停止的实例），与原有前端的调用方式保持一致。
func (s *Server) handleStart(c *gin.Context) {
	idOrType := c.Param("id")

	if s.isKnownType(idOrType) {
		s.handleCreate(c, idOrType)
		return
	}

	if err := s.ctrl.Restart(c.Request.Context(), idOrType); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": idOrType})
}

func (s *Server) isKnownType(name string) bool {
	for _, d := range s.ctrl.Types() {
		if d.Type == name {
			return true
		}
	}
	return false
}

func (s *Server) handleCreate(c *gin.Context, typ string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, domain.WrapError(domain.ErrInvalidConfiguration, err, "读取请求体失败"))
		return
	}

	params, err := normalizeParams(body)
	if err != nil {
		abortWithError(c, err)
		return
	}

	id, err := s.ctrl.Create(c.Request.Context(), typ, params)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// normalizeParams 标准化策略参数中的交易对写法
func normalizeParams(body []byte) (json.RawMessage, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidConfiguration, err, "解析策略参数失败")
	}
	if v, ok := m["market"].(string); ok {
		m["market"] = normalizeMarket(v)
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidConfiguration, err, "序列化策略参数失败")
	}
	return out, nil
}

func (s *Server) handleStop(c *gin.Context) {
	id := c.Param("id")
	if err := s.ctrl.Stop(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

func (s *Server) handleUpdate(c *gin.Context) {
	id := c.Param("id")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, domain.WrapError(domain.ErrInvalidConfiguration, err, "读取请求体失败"))
		return
	}
	params, err := normalizeParams(body)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := s.ctrl.Update(c.Request.Context(), id, params); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.ctrl.Status(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": snap})
}

func (s *Server) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if err := s.ctrl.Delete(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": s.ctrl.List()})
}

func (s *Server) handleTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": s.ctrl.Types()})
}
