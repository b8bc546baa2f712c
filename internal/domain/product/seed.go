package product

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SeedReader loads a product seed archive (a zipped csv export of the
// commerce platform's catalog) used to bootstrap an empty product index.
// Columns: sku, name, description, and optionally shopId, categoryId,
// tenantId, price, attributes-json.
type SeedReader struct {
	Path string
}

func NewSeedReader(path string) *SeedReader {
	return &SeedReader{
		Path: path,
	}
}

func (sr *SeedReader) Read() ([]*Product, error) {
	dest := "data/"
	if err := sr.unzipSource(sr.Path, dest); err != nil {
		return nil, err
	}

	f, err := os.Open("data/product_list.csv")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	idGen := NewIdGenerator()

	result := make([]*Product, 0, 100000)
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	for {
		row, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		if len(row) < 3 {
			continue
		}

		now := time.Now()
		p := &Product{
			Id:          idGen.NewId(),
			SKU:         row[0],
			Name:        row[1],
			Description: row[2],
			InStock:     true,
			Active:      true,
			Published:   true,
			CreateTime:  now,
			UpdateTime:  now,
		}

		if len(row) > 3 {
			p.ShopId = row[3]
		}
		if len(row) > 4 {
			p.CategoryId = row[4]
		}
		if len(row) > 5 {
			p.TenantId = row[5]
		}
		if len(row) > 6 {
			if price, err := strconv.ParseFloat(strings.TrimSpace(row[6]), 64); err == nil {
				p.Price = price
			}
		}
		if len(row) > 7 {
			p.Attributes = row[7]
		}

		result = append(result, p)
	}

	return result, nil
}

func (sr *SeedReader) unzipSource(source, destination string) error {
	reader, err := zip.OpenReader(source)
	if err != nil {
		return err
	}
	defer reader.Close()

	destination, err = filepath.Abs(destination)
	if err != nil {
		return err
	}

	for _, f := range reader.File {
		err := sr.unzipFile(f, destination)
		if err != nil {
			return err
		}
	}

	return nil
}

func (sr *SeedReader) unzipFile(f *zip.File, destination string) error {
	// guard against zip slip
	filePath := filepath.Join(destination, f.Name)
	if !strings.HasPrefix(filePath, filepath.Clean(destination)+string(os.PathSeparator)) {
		return fmt.Errorf("invalid file path: %s", filePath)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(filePath, os.ModePerm); err != nil {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
		return err
	}

	destinationFile, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer destinationFile.Close()

	zippedFile, err := f.Open()
	if err != nil {
		return err
	}
	defer zippedFile.Close()

	if _, err := io.Copy(destinationFile, zippedFile); err != nil {
		return err
	}
	return nil
}
