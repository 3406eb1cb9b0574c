// Package dataset 读写家庭偏好表和分配结果表
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

const (
	columnFamilyID    = "family_id"
	columnPeople      = "n_people"
	columnAssignedDay = "assigned_day"
	maxChoiceColumns  = 10
)

func choiceColumn(rank int) string {
	return fmt.Sprintf("choice_%d", rank)
}

// header 记录每个列名所在的位置
type header map[string]int

func readHeader(r *csv.Reader, required ...string) (header, error) {
	record, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: 文件为空", domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	h := make(header, len(record))
	for i, name := range record {
		// 去掉 Excel 导出时可能带上的 BOM
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		h[name] = i
	}

	for _, name := range required {
		if _, ok := h[name]; !ok {
			return nil, fmt.Errorf("%w: 缺少列 %s", domain.ErrInvalidInput, name)
		}
	}

	return h, nil
}

func (h header) parse(record []string, name string, line int) (int32, error) {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return 0, fmt.Errorf("%w: 第 %d 行缺少列 %s", domain.ErrInvalidInput, line, name)
	}

	v, err := strconv.ParseInt(strings.TrimSpace(record[i]), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: 第 %d 行的 %s 不是整数: %q", domain.ErrInvalidInput, line, name, record[i])
	}
	return int32(v), nil
}

// ReadFamilies 读取 family_id,choice_0..choice_9,n_people 格式的偏好表，列按名字定位
//
// 偏好列可以少于 10 个，但必须从 choice_0 开始连续；空单元格表示没有更多偏好
func ReadFamilies(r io.Reader) ([]domain.Family, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	h, err := readHeader(reader, columnFamilyID, columnPeople, choiceColumn(0))
	if err != nil {
		return nil, err
	}

	ranks := 0
	for ranks < maxChoiceColumns {
		if _, ok := h[choiceColumn(ranks)]; !ok {
			break
		}
		ranks++
	}

	families := make([]domain.Family, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}

		id, err := h.parse(record, columnFamilyID, line)
		if err != nil {
			return nil, err
		}
		people, err := h.parse(record, columnPeople, line)
		if err != nil {
			return nil, err
		}

		choices := make([]int32, 0, ranks)
		for rank := 0; rank < ranks; rank++ {
			i := h[choiceColumn(rank)]
			if i >= len(record) || strings.TrimSpace(record[i]) == "" {
				break
			}
			day, err := h.parse(record, choiceColumn(rank), line)
			if err != nil {
				return nil, err
			}
			choices = append(choices, day)
		}

		families = append(families, domain.Family{ID: id, People: people, Choices: choices})
	}

	return families, nil
}

// WriteFamilies 按 ReadFamilies 能读取的格式写出偏好表
func WriteFamilies(w io.Writer, families []domain.Family) error {
	writer := csv.NewWriter(w)

	record := []string{columnFamilyID}
	for rank := 0; rank < maxChoiceColumns; rank++ {
		record = append(record, choiceColumn(rank))
	}
	record = append(record, columnPeople)
	if err := writer.Write(record); err != nil {
		return err
	}

	for _, family := range families {
		record = record[:0]
		record = append(record, strconv.Itoa(int(family.ID)))
		for rank := 0; rank < maxChoiceColumns; rank++ {
			if rank < len(family.Choices) {
				record = append(record, strconv.Itoa(int(family.Choices[rank])))
			} else {
				record = append(record, "")
			}
		}
		record = append(record, strconv.Itoa(int(family.People)))
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// ReadAssignments 读取 family_id,assigned_day 格式的分配表
func ReadAssignments(r io.Reader) ([]domain.DayAssignment, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	h, err := readHeader(reader, columnFamilyID, columnAssignedDay)
	if err != nil {
		return nil, err
	}

	assignments := make([]domain.DayAssignment, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}

		id, err := h.parse(record, columnFamilyID, line)
		if err != nil {
			return nil, err
		}
		day, err := h.parse(record, columnAssignedDay, line)
		if err != nil {
			return nil, err
		}

		assignments = append(assignments, domain.DayAssignment{FamilyID: id, AssignedDay: day})
	}

	return assignments, nil
}

// WriteAssignments 写出分配表，调用方负责按家庭编号排序
func WriteAssignments(w io.Writer, assignments []domain.DayAssignment) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{columnFamilyID, columnAssignedDay}); err != nil {
		return err
	}

	for _, a := range assignments {
		if err := writer.Write([]string{strconv.Itoa(int(a.FamilyID)), strconv.Itoa(int(a.AssignedDay))}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
